package formwizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/livetemplate/formwizard/internal/form"
)

// Intent actions accepted by MessageRouter.
const (
	ActionUpdate      = "update"
	ActionAdvance     = "advance"
	ActionRetreat     = "retreat"
	ActionGoTo        = "goto"
	ActionValidate    = "validate"
	ActionSubmit      = "submit"
	ActionReset       = "reset"
	ActionSetLanguage = "setLanguage"
	ActionSnapshot    = "snapshot"
)

// MessageEnvelope is an intent sent by a client.
type MessageEnvelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// ResponseEnvelope answers an intent or pushes a change. Meta always carries
// "success"; failures add "error" and, for rejected payloads, "field" and
// "hint".
type ResponseEnvelope struct {
	Action string                 `json:"action"`
	State  *View                  `json:"state,omitempty"`
	Meta   map[string]interface{} `json:"meta"`
	Err    error                  `json:"-"` // why the intent failed, if it did
}

type updateData struct {
	Section string                 `json:"section"`
	Fields  map[string]interface{} `json:"fields"`
}

type stepData struct {
	Step string `json:"step"`
}

type languageData struct {
	Language string `json:"language"`
}

// MessageRouter applies intents to a session. Intents that change the
// wizard are also pushed as a "state" envelope to the session's listeners,
// so every open client follows edits made elsewhere.
type MessageRouter struct {
	session *Session
	origin  *Subscription
}

// NewMessageRouter creates a new message router for a session.
func NewMessageRouter(s *Session) *MessageRouter {
	return &MessageRouter{
		session: s,
	}
}

// From marks sub as the client issuing intents through this router. It
// gets the reply and is left out of the matching push.
func (mr *MessageRouter) From(sub *Subscription) *MessageRouter {
	mr.origin = sub
	return mr
}

// pushed lists the intents whose effect is pushed to listeners. Submit
// pushes its own lifecycle from the wizard.
var pushed = map[string]bool{
	ActionUpdate:      true,
	ActionAdvance:     true,
	ActionRetreat:     true,
	ActionGoTo:        true,
	ActionValidate:    true,
	ActionReset:       true,
	ActionSetLanguage: true,
}

// Route applies envelope to the session and returns the resulting view.
// Rejected intents come back as a response with success false; only an
// unknown action is returned as an error.
func (mr *MessageRouter) Route(ctx context.Context, envelope *MessageEnvelope) (*ResponseEnvelope, error) {
	meta, err := mr.dispatch(ctx, envelope)
	if errors.Is(err, ErrUnknownAction) {
		return nil, err
	}
	if meta == nil {
		meta = map[string]interface{}{}
	}

	if err != nil {
		meta["success"] = false
		meta["error"] = err.Error()
		var fe *FieldError
		if errors.As(err, &fe) {
			if fe.Field != "" {
				meta["field"] = fe.Field
			}
			if fe.Hint != "" {
				meta["hint"] = fe.Hint
			}
		}
	} else if _, ok := meta["success"]; !ok {
		meta["success"] = true
	}

	view := mr.session.View()
	if err == nil && pushed[envelope.Action] {
		mr.session.publish(&ResponseEnvelope{
			Action: PushState,
			State:  view,
			Meta:   map[string]interface{}{"success": true, "cause": envelope.Action},
		}, mr.origin)
	}

	return &ResponseEnvelope{
		Action: envelope.Action,
		State:  view,
		Meta:   meta,
		Err:    err,
	}, nil
}

func (mr *MessageRouter) dispatch(ctx context.Context, envelope *MessageEnvelope) (map[string]interface{}, error) {
	w := mr.session.Wizard()

	switch envelope.Action {
	case ActionSnapshot:
		return nil, nil

	case ActionUpdate:
		var data updateData
		if err := decodeData(envelope, &data); err != nil {
			return nil, err
		}
		section, err := form.ParseSection(data.Section)
		if err != nil {
			return nil, NewFieldError(envelope.Action, "unknown section").
				WithField("section").
				WithHint("use personalInfo, address or preferences").
				WithCause(err)
		}
		if err := w.UpdateFields(section, data.Fields); err != nil {
			return nil, NewFieldError(envelope.Action, "rejected fields").
				WithField("fields").
				WithCause(err)
		}
		return nil, nil

	case ActionAdvance:
		moved, errs := w.Advance()
		return stepMeta(moved, errs), nil

	case ActionRetreat:
		return map[string]interface{}{"moved": w.Retreat()}, nil

	case ActionGoTo:
		var data stepData
		if err := decodeData(envelope, &data); err != nil {
			return nil, err
		}
		moved, errs, err := w.GoToStep(form.Step(data.Step))
		if err != nil {
			return nil, NewFieldError(envelope.Action, "unknown step").
				WithField("step").
				WithCause(err)
		}
		return stepMeta(moved, errs), nil

	case ActionValidate:
		var data stepData
		if err := decodeData(envelope, &data); err != nil {
			return nil, err
		}
		step := w.CurrentStep()
		if data.Step != "" {
			parsed, err := form.ParseStep(data.Step)
			if err != nil {
				return nil, NewFieldError(envelope.Action, "unknown step").
					WithField("step").
					WithCause(err)
			}
			step = parsed
		}
		valid := w.Validate(step)
		return map[string]interface{}{"success": valid, "valid": valid}, nil

	case ActionSubmit:
		if err := w.Submit(ctx); err != nil {
			return map[string]interface{}{"submitted": false}, err
		}
		return map[string]interface{}{"submitted": true}, nil

	case ActionReset:
		w.ResetForm(ctx)
		return nil, nil

	case ActionSetLanguage:
		var data languageData
		if err := decodeData(envelope, &data); err != nil {
			return nil, err
		}
		if err := mr.session.SetLanguage(ctx, data.Language); err != nil {
			return nil, NewFieldError(envelope.Action, "unsupported language").
				WithField("language").
				WithHint(fmt.Sprintf("available: %v", mr.session.catalog.Languages())).
				WithCause(err)
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, envelope.Action)
	}
}

func stepMeta(moved bool, errs form.Errors) map[string]interface{} {
	return map[string]interface{}{
		"success": errs == nil,
		"moved":   moved,
	}
}

func decodeData(envelope *MessageEnvelope, v interface{}) error {
	if len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, v); err != nil {
		return NewFieldError(envelope.Action, "malformed data").
			WithField("data").
			WithCause(err)
	}
	return nil
}
