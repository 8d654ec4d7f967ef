package domain

import "time"

// PhotoCategory classifies evidence photos.
type PhotoCategory string

const (
	PhotoCategoryDock      PhotoCategory = "dock"
	PhotoCategoryPaperwork PhotoCategory = "paperwork"
	PhotoCategoryTrailer   PhotoCategory = "trailer"
	PhotoCategoryOther     PhotoCategory = "other"
)

// Valid reports whether c is a known category.
func (c PhotoCategory) Valid() bool {
	switch c {
	case PhotoCategoryDock, PhotoCategoryPaperwork, PhotoCategoryTrailer, PhotoCategoryOther:
		return true
	}
	return false
}

// PendingGpsLog is a GPS breadcrumb not yet accepted by the remote store.
// SessionCode is the verification code of the session that captured it.
type PendingGpsLog struct {
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Accuracy    *float64  `json:"accuracy"`
	Timestamp   time.Time `json:"timestamp"`
	SessionCode string    `json:"sessionCode"`
}

// PendingPhoto is photo metadata waiting for upload. LocalURI points at
// device-local storage.
type PendingPhoto struct {
	LocalURI    string        `json:"localUri"`
	Category    PhotoCategory `json:"category"`
	Lat         *float64      `json:"lat"`
	Lng         *float64      `json:"lng"`
	Timestamp   time.Time     `json:"timestamp"`
	Caption     *string       `json:"caption"`
	SessionCode string        `json:"sessionCode"`
}

// Snapshot is the durable document persisted after every mutation.
type Snapshot struct {
	Detention      ActiveDetention `json:"activeDetention"`
	PendingGpsLogs []PendingGpsLog `json:"pendingGpsLogs"`
	PendingPhotos  []PendingPhoto  `json:"pendingPhotos"`
	LastGpsLogTime *time.Time      `json:"lastGpsLogTime"`
	LastSyncTime   *time.Time      `json:"lastSyncTime"`
	Closeouts      []Closeout      `json:"closeouts,omitempty"`
}
