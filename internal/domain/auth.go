package domain

// AgentRole enumerates roles carried in API tokens.
type AgentRole string

const (
	AgentRoleAgent AgentRole = "AGENT"
	AgentRoleAdmin AgentRole = "ADMIN"
)

// Agent is the authenticated caller of the administrative API.
type Agent struct {
	Email string
	Role  AgentRole
}
