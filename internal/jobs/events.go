package jobs

import "github.com/vrsandeep/extract-go/internal/models"

// Broadcaster delivers progress events to the observers of a dataset.
// Publishing must not block on slow observers.
type Broadcaster interface {
	Publish(ev models.ProgressEvent)
}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(models.ProgressEvent) {}

func publish(b Broadcaster, eventType string, job *models.ExtractionJob, mutate ...func(*models.ProgressEvent)) {
	ev := models.NewProgressEvent(eventType, job)
	for _, m := range mutate {
		m(&ev)
	}
	b.Publish(ev)
}
