package domain

// CompensatorOption describes one selectable exposure compensator.
type CompensatorOption struct {
	ID          Compensator `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
}
