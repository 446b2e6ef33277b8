package domain

// Participant is a directory record for one account. ID is opaque, stable
// and never reused; Handle is the short name users search by.
type Participant struct {
	ID          string
	Handle      string
	DisplayName string
	PhotoURL    string
}
