package live

import "github.com/classlive/backend/internal/models"

// Action is a capability checked against a participant's session role.
type Action string

const (
	ActionStartSession    Action = "start_session"
	ActionEndSession      Action = "end_session"
	ActionAdmit           Action = "admit"
	ActionManageBreakouts Action = "manage_breakouts"
	ActionOpenPoll        Action = "open_poll"
	ActionClosePoll       Action = "close_poll"
	ActionAnswerQuestion  Action = "answer_question"
	ActionPromote         Action = "promote"
)

// capabilities is the explicit capability set per role. Attendees hold no
// privileged actions; everything they can do (signal, submit, raise a hand)
// is unconditional for connected participants.
var capabilities = map[models.SessionRole]map[Action]struct{}{
	models.RoleHost: {
		ActionStartSession:    {},
		ActionEndSession:      {},
		ActionAdmit:           {},
		ActionManageBreakouts: {},
		ActionOpenPoll:        {},
		ActionClosePoll:       {},
		ActionAnswerQuestion:  {},
		ActionPromote:         {},
	},
	models.RoleCoHost: {
		ActionEndSession:      {},
		ActionAdmit:           {},
		ActionManageBreakouts: {},
		ActionOpenPoll:        {},
		ActionClosePoll:       {},
		ActionAnswerQuestion:  {},
	},
	models.RoleAttendee: {},
}

// Permits reports whether role may perform action.
func Permits(role models.SessionRole, action Action) bool {
	caps, ok := capabilities[role]
	if !ok {
		return false
	}
	_, ok = caps[action]
	return ok
}
