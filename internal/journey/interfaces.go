package journey

import "context"

// FeedClient fetches raw documents from the upstream feed. Both calls
// fail with a *TransportError on network, timeout or HTTP status errors.
type FeedClient interface {
	// ListTrains returns the trains currently in transit. An empty list is
	// not an error here; callers treat it as session expiry.
	ListTrains(ctx context.Context, token string) ([]Train, error)
	// FetchDetail returns the route detail document for one train.
	FetchDetail(ctx context.Context, trainID int64, token string) ([]byte, error)
}

// DocumentParser extracts named values from a route detail document.
type DocumentParser interface {
	ParseRoute(doc []byte) (RawRoute, error)
}

// Store persists journey records keyed by train ID.
type Store interface {
	// Upsert inserts the record or, when the train ID exists, updates the
	// mutable fields while keeping the original insertion timestamp.
	Upsert(ctx context.Context, rec JourneyRecord) error
	// DeleteByTrainID removes the train's record unless it is finalized.
	DeleteByTrainID(ctx context.Context, trainID int64) error
	// LoadOpenJourneys returns the records of journeys not yet arrived.
	LoadOpenJourneys(ctx context.Context) ([]OpenJourney, error)
}

// Notifier is told about every journey persisted as arrived.
type Notifier interface {
	JourneyArrived(ctx context.Context, rec JourneyRecord)
}
