package entity

type FetchStatus int

const (
	StatusSuccess FetchStatus = iota
	StatusFailed
)

func (s FetchStatus) String() string {
	return [...]string{"success", "failed"}[s]
}

// FailureKind categorises a failed download.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureDownload
	FailureFilesystem
	FailureCancelled
)

func (k FailureKind) String() string {
	return [...]string{"none", "download", "filesystem", "cancelled"}[k]
}

// FetchOutcome is the result of one attempted download.
type FetchOutcome struct {
	Seq          int // Position of Ref in the fetcher input
	Ref          RemoteFileRef
	Status       FetchStatus
	Kind         FailureKind
	Err          error
	BytesWritten int64
	Path         string // Final local path
}

func (o FetchOutcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// Reason is a human readable failure reason, empty on success.
func (o FetchOutcome) Reason() string {
	if o.Status == StatusSuccess {
		return ""
	}

	if o.Err == nil {
		return o.Kind.String() + " failure"
	}

	return o.Err.Error()
}
