package strategy

// ListOptions controls how strategies are selected when querying the store.
type ListOptions struct {
	Limit           int
	Offset          int
	AgentID         string
	Statuses        []ExecutionStatus
	IncludeArchived bool
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
}

func (opts ListOptions) matches(s *Strategy) bool {
	if s == nil {
		return false
	}
	if !opts.IncludeArchived && s.Archived {
		return false
	}
	if opts.AgentID != "" && s.AgentID != opts.AgentID {
		return false
	}
	if len(opts.Statuses) > 0 {
		matched := false
		for _, status := range opts.Statuses {
			if s.Status == status {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}
