package errors

const (
	FailedToStartServer     = 1
	FailedToCreatePublisher = 2
)
