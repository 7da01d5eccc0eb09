package tool

// DangerPolicy decides whether a specific call needs human confirmation
// before it runs. It is a tagged variant: a tool is never dangerous, always
// dangerous with a fixed description, or conditionally dangerous via a
// predicate over the call's arguments. The zero value is DangerNone.
type DangerPolicy struct {
	kind        dangerKind
	description string
	predicate   func(args map[string]any) (string, bool)
}

type dangerKind int

const (
	dangerNone dangerKind = iota
	dangerAlways
	dangerConditional
)

// DangerNone marks a tool as never requiring confirmation.
func DangerNone() DangerPolicy {
	return DangerPolicy{kind: dangerNone}
}

// DangerAlways marks a tool as always requiring confirmation, described by
// a fixed string shown to the operator.
func DangerAlways(description string) DangerPolicy {
	return DangerPolicy{kind: dangerAlways, description: description}
}

// DangerIf marks a tool as conditionally dangerous. The predicate inspects
// the call's arguments and returns a description plus true when the call
// needs confirmation.
func DangerIf(predicate func(args map[string]any) (string, bool)) DangerPolicy {
	return DangerPolicy{kind: dangerConditional, predicate: predicate}
}

// Evaluate reports whether a call with the given arguments requires
// confirmation, and with what description.
func (p DangerPolicy) Evaluate(args map[string]any) (string, bool) {
	switch p.kind {
	case dangerAlways:
		return p.description, true
	case dangerConditional:
		if p.predicate == nil {
			return "", false
		}
		return p.predicate(args)
	default:
		return "", false
	}
}
