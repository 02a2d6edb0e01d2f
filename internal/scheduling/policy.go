package scheduling

// Policy decides what happens to arriving and completing requests.
type Policy interface {
	Init()
	OnArrival(request *scheduledRequest)
	OnCompletion(request *scheduledRequest)
}
