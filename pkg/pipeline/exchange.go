package pipeline

import "sync"

// Exchange is one unit of work travelling down a pipeline. Routing valves
// read Host and Path; Request and Response are opaque to the core.
type Exchange struct {
	ID   string
	Host string
	Path string

	Request  interface{}
	Response interface{}

	mu         sync.RWMutex
	attributes map[string]interface{}
	route      []string
}

// NewExchange creates an exchange addressed to host and path.
func NewExchange(id, host, path string, request interface{}) *Exchange {
	return &Exchange{ID: id, Host: host, Path: path, Request: request}
}

// SetAttribute stores a value for later valves.
func (e *Exchange) SetAttribute(key string, value interface{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attributes == nil {
		e.attributes = make(map[string]interface{})
	}
	e.attributes[key] = value
}

// Attribute returns a stored value.
func (e *Exchange) Attribute(key string) (interface{}, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.attributes[key]
	return v, ok
}

// RemoveAttribute deletes a stored value.
func (e *Exchange) RemoveAttribute(key string) {
	e.mu.Lock()
	delete(e.attributes, key)
	e.mu.Unlock()
}

// Visit records that the exchange was routed through the named container.
func (e *Exchange) Visit(name string) {
	e.mu.Lock()
	e.route = append(e.route, name)
	e.mu.Unlock()
}

// Route returns the containers the exchange was routed through, outermost first.
func (e *Exchange) Route() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.route...)
}
