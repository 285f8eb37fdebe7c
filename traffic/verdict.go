package traffic

import "slices"

// Decision is the final action the proxy host takes for an event.
type Decision uint8

const (
	DecisionContinue Decision = iota
	DecisionModify
	DecisionBlock
)

func (d Decision) String() string {
	switch d {
	case DecisionContinue:
		return "continue"
	case DecisionModify:
		return "modify"
	case DecisionBlock:
		return "block"
	default:
		return "unknown"
	}
}

// Contribution is one hook invocation's output. A nil contribution means
// the hook observed the event without changing anything.
type Contribution struct {
	SetHeaders map[string]string
	DelHeaders []string

	// ReplaceBody swaps the message body (or websocket payload). A replaced
	// body is a terminal verdict for short-circuit purposes.
	ReplaceBody []byte
	StatusCode  int

	Block       bool
	BlockReason string

	Tags []string
}

// Terminal reports whether the contribution decides the event outcome:
// blocking or replacing the body ends rule evaluation for hooks that
// declared the short-circuit flag.
func (c *Contribution) Terminal() bool {
	if c == nil {
		return false
	}
	return c.Block || c.ReplaceBody != nil
}

// Verdict accumulates contributions for one event, in invocation order,
// and is handed back to the proxy host once the dispatch cycle ends.
type Verdict struct {
	Decision    Decision
	SetHeaders  map[string]string
	DelHeaders  []string
	Body        []byte
	StatusCode  int
	BlockReason string
	Tags        []string

	// Applied lists the addon ids whose contributions were merged,
	// in the order they were applied.
	Applied []string
}

// NewVerdict returns a pass-through verdict.
func NewVerdict() *Verdict {
	return &Verdict{
		Decision:   DecisionContinue,
		SetHeaders: map[string]string{},
	}
}

// Apply merges one contribution into the verdict. Later contributions win
// per header key; a block decision is sticky once set.
func (v *Verdict) Apply(addonID string, contribution *Contribution) {
	if contribution == nil {
		return
	}

	v.Applied = append(v.Applied, addonID)

	for key, value := range contribution.SetHeaders {
		v.SetHeaders[key] = value
		if idx := slices.Index(v.DelHeaders, key); idx >= 0 {
			v.DelHeaders = slices.Delete(v.DelHeaders, idx, idx+1)
		}
	}
	for _, key := range contribution.DelHeaders {
		delete(v.SetHeaders, key)
		if !slices.Contains(v.DelHeaders, key) {
			v.DelHeaders = append(v.DelHeaders, key)
		}
	}

	if contribution.ReplaceBody != nil {
		v.Body = contribution.ReplaceBody
	}
	if contribution.StatusCode != 0 {
		v.StatusCode = contribution.StatusCode
	}

	v.Tags = append(v.Tags, contribution.Tags...)

	if contribution.Block {
		v.Decision = DecisionBlock
		if contribution.BlockReason != "" {
			v.BlockReason = contribution.BlockReason
		}
		return
	}

	if v.Decision != DecisionBlock && v.modified() {
		v.Decision = DecisionModify
	}
}

// Terminal reports whether the verdict already decides the event outcome.
func (v *Verdict) Terminal() bool {
	return v.Decision == DecisionBlock || v.Body != nil
}

func (v *Verdict) modified() bool {
	return len(v.SetHeaders) > 0 || len(v.DelHeaders) > 0 ||
		v.Body != nil || v.StatusCode != 0
}
