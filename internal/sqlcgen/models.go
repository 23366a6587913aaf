package sqlcgen

import "time"

type ExposedEntity struct {
	Identity    string
	ProfileID   string
	DisplayName string
	Context     []byte
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
