package services

// Counters tallies group outcomes for one workflow invocation.
type Counters struct {
	Success    int `json:"success"`
	Error      int `json:"error"`
	Unresolved int `json:"unresolved"`
}

func (c Counters) Add(o Counters) Counters {
	return Counters{
		Success:    c.Success + o.Success,
		Error:      c.Error + o.Error,
		Unresolved: c.Unresolved + o.Unresolved,
	}
}

func (c Counters) Total() int {
	return c.Success + c.Error + c.Unresolved
}
