package commands

// EchoInterest is the demo interest every mrpcd server exposes, mostly so a
// fresh deployment can be poked with `mrpcd call`.
const EchoInterest = "echo.Request"

type EchoRequest struct {
	Payload string
}

type EchoResponse struct {
	Payload  string
	ServedBy string
}
