package models

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	StatusActive                  SessionStatus = "active"
	StatusWaitingForClarification SessionStatus = "waiting_for_clarification"
	StatusCompleted               SessionStatus = "completed"
	StatusStuck                   SessionStatus = "stuck"
	StatusCancelled               SessionStatus = "cancelled"
	StatusError                   SessionStatus = "error"
	StatusInterrupted             SessionStatus = "interrupted"
)

// IsValid reports whether the value is a known status.
func (s SessionStatus) IsValid() bool {
	switch s {
	case StatusActive, StatusWaitingForClarification, StatusCompleted,
		StatusStuck, StatusCancelled, StatusError, StatusInterrupted:
		return true
	}
	return false
}

// IsTerminal reports whether the dispatch loop must not run in this status.
// Completed and Cancelled are final; Stuck, Error and Interrupted only leave
// via Resume.
func (s SessionStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusStuck, StatusCancelled, StatusError, StatusInterrupted:
		return true
	}
	return false
}

// IsResumable reports whether Resume may reactivate this status.
func (s SessionStatus) IsResumable() bool {
	switch s {
	case StatusStuck, StatusInterrupted, StatusError:
		return true
	}
	return false
}

// MessageKind classifies a conversation message.
type MessageKind string

const (
	KindProblemStatement MessageKind = "problem_statement"
	KindQuestion         MessageKind = "question"
	KindAnswer           MessageKind = "answer"
	KindDelegation       MessageKind = "delegation"
	KindClarification    MessageKind = "clarification"
	KindUserResponse     MessageKind = "user_response"
	KindSolution         MessageKind = "solution"
	KindStuck            MessageKind = "stuck"
	KindDecline          MessageKind = "decline"
)

// PersonaRole identifies a message author: one of the ten personas, or the
// human user.
type PersonaRole string

const (
	RoleCoordinator        PersonaRole = "coordinator"
	RoleBusinessAnalyst    PersonaRole = "business_analyst"
	RoleTechnicalArchitect PersonaRole = "technical_architect"
	RoleSeniorDeveloper    PersonaRole = "senior_developer"
	RoleJuniorDeveloper    PersonaRole = "junior_developer"
	RoleSeniorQA           PersonaRole = "senior_qa"
	RoleJuniorQA           PersonaRole = "junior_qa"
	RoleUXEngineer         PersonaRole = "ux_engineer"
	RoleUIEngineer         PersonaRole = "ui_engineer"
	RoleDocumentWriter     PersonaRole = "document_writer"

	// RoleUser marks messages authored by the human, not a persona.
	RoleUser PersonaRole = "user"
)

// IsPersona reports whether the role is one of the ten AI personas.
func (r PersonaRole) IsPersona() bool {
	switch r {
	case RoleCoordinator, RoleBusinessAnalyst, RoleTechnicalArchitect,
		RoleSeniorDeveloper, RoleJuniorDeveloper, RoleSeniorQA, RoleJuniorQA,
		RoleUXEngineer, RoleUIEngineer, RoleDocumentWriter:
		return true
	}
	return false
}
