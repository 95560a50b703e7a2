package node

// Descriptor is the read-only catalog of closed enums exposed to
// external collaborators
type Descriptor struct {
	NodeTypes  []Type     `json:"nodeTypes"`
	Statuses   []Status   `json:"statuses"`
	Validities []Validity `json:"validities"`
	Priorities []Priority `json:"priorities"`
	EdgeTypes  []EdgeType `json:"edgeTypes"`
}

// Types returns the full enum catalog
func Types() Descriptor {
	return Descriptor{
		NodeTypes: []Type{
			TypeTask, TypeDoc, TypeCode, TypeDecision, TypeIdeation,
			TypeBrainfart, TypeResearch, TypeConversation, TypeConcept,
			TypeEvent, TypeAgent, TypeProject,
		},
		Statuses: []Status{
			StatusPending, StatusClaimed, StatusActive,
			StatusBlocked, StatusComplete, StatusArchived,
		},
		Validities: []Validity{
			ValidityCurrent, ValidityStale, ValiditySuperseded, ValidityArchived,
		},
		Priorities: []Priority{
			PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow,
		},
		EdgeTypes: []EdgeType{
			EdgeImplements, EdgeDocuments, EdgeSourcedFrom, EdgeBlocks,
			EdgeBlockedBy, EdgeDependsOn, EdgeSpawns, EdgeBecomes,
			EdgeRelatesTo, EdgePartOf, EdgeSupersedes, EdgeInvalidates,
			EdgeDerivedFrom, EdgeAssignedTo, EdgeOwnedBy, EdgeLockedBy,
		},
	}
}
