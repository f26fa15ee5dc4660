package trades

// Role is the authorization role of an authenticated principal
type Role string

const (
	// RoleUser is a plain requester
	RoleUser Role = "user"
	// RoleAdmin is an approver
	RoleAdmin Role = "admin"
)

// Principal is an already-authenticated actor
type Principal struct {
	ID   string `json:"id" yaml:"id"`
	Role Role   `json:"role" yaml:"role"`
}

// IsApprover reports whether the principal holds the approver role
func (p Principal) IsApprover() bool {
	return p.Role == RoleAdmin
}

// PolicyAction is an action class the boundary asks the policy about
type PolicyAction string

const (
	PolicySubmit        PolicyAction = "submit"
	PolicyApprove       PolicyAction = "approve"
	PolicySendToExecute PolicyAction = "send_to_execute"
	PolicyUpdate        PolicyAction = "update"
	PolicyCancel        PolicyAction = "cancel"
	PolicyBook          PolicyAction = "book"
	PolicyGetHistory    PolicyAction = "get_history"
	PolicyDiff          PolicyAction = "diff"
	PolicyGetStatus     PolicyAction = "get_status"
	PolicyGetTrade      PolicyAction = "get_trade"
	PolicyList          PolicyAction = "list"
)

// Denial messages rendered to callers
const (
	msgRequestersOnly        = "Only requesters can perform this action."
	msgApproversOnly         = "Only approvers can perform this action."
	msgRequestersOrApprovers = "Only requesters or approvers can perform this action."
)

// Policy decides whether a principal may perform an action. It is stateless
// and evaluated before any lifecycle mutation is attempted.
type Policy struct{}

// NewPolicy creates the authorization policy
func NewPolicy() *Policy {
	return &Policy{}
}

// RequiresOwner reports whether the decision for action depends on the
// trade's requester
func (p *Policy) RequiresOwner(action PolicyAction) bool {
	switch action {
	case PolicyUpdate, PolicyCancel, PolicyBook, PolicyGetHistory, PolicyDiff, PolicyGetStatus, PolicyGetTrade:
		return true
	}
	return false
}

// Authorize returns nil when principal may perform action on a trade owned
// by requesterID, or an *UnauthorizedError otherwise. requesterID is ignored
// for actions that do not depend on ownership.
func (p *Policy) Authorize(principal Principal, action PolicyAction, requesterID string) error {
	switch action {
	case PolicySubmit:
		if principal.Role != RoleUser {
			return deny(principal, action, msgRequestersOnly)
		}
		return nil

	case PolicyApprove, PolicySendToExecute:
		if !principal.IsApprover() {
			return deny(principal, action, msgApproversOnly)
		}
		return nil

	case PolicyUpdate, PolicyCancel, PolicyBook, PolicyGetHistory, PolicyDiff, PolicyGetStatus, PolicyGetTrade:
		if principal.ID != requesterID && !principal.IsApprover() {
			return deny(principal, action, msgRequestersOrApprovers)
		}
		return nil

	case PolicyList:
		// Everyone may list; the result is scoped by the service.
		return nil
	}

	return deny(principal, action, "")
}

func deny(principal Principal, action PolicyAction, reason string) error {
	return &UnauthorizedError{
		PrincipalID: principal.ID,
		Role:        principal.Role,
		Action:      action,
		Reason:      reason,
	}
}
