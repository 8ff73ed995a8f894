package chat

// fetchRequest describes one history page request.
type fetchRequest struct {
	ConversationID string
	Page           int
	Limit          int
	RequestID      int64
	Event          string
}

func (r fetchRequest) payload() map[string]any {
	return map[string]any{
		"chatId":    r.ConversationID,
		"page":      r.Page,
		"limit":     r.Limit,
		"requestId": r.RequestID,
	}
}

// pendingFetch is a single-slot buffer for the fetch that could not be sent
// while disconnected. A newer request overwrites the older one.
type pendingFetch struct {
	req *fetchRequest
}

func (p *pendingFetch) Set(r fetchRequest) {
	p.req = &r
}

// Take returns and clears the slot.
func (p *pendingFetch) Take() (fetchRequest, bool) {
	if p.req == nil {
		return fetchRequest{}, false
	}
	r := *p.req
	p.req = nil
	return r, true
}

func (p *pendingFetch) Peek() (fetchRequest, bool) {
	if p.req == nil {
		return fetchRequest{}, false
	}
	return *p.req, true
}
