// Package booster moves a websocket connection or a polling request cycle
// off the caller's goroutines and into an isolated worker context, and
// hands back a small Transport with Send, Close and event listeners.
//
// Two transports are provided:
//   - SocketBooster: one websocket; sends issued before the handshake
//     completes are queued and delivered in order.
//   - AjaxPoller: a recurring GET with named backoff, refresh-after-N,
//     demand-triggered re-polls and one-off POST, PUT and DELETE requests.
//
// Listeners run on the worker host's dispatch goroutine, in registration
// order. The first request goes out while the transport is constructed;
// pass WithListener to be sure of seeing its result. Network failures
// never surface as returned errors; they arrive as records with Success
// set to false. A poller whose context fails gets a new one and carries
// on polling after one frequency.
//
// Example Usage:
//
//	p, err := booster.NewAjaxPoller(booster.PollSettings{
//		URL:       "https://api.example.com/feed",
//		Frequency: 5000,
//		Refresh:   100,
//	}, booster.WithListener(booster.EventSuccess, func(ev booster.Event) {
//		fmt.Println(ev.Text())
//	}))
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	p.On(booster.EventError, func(ev booster.Event) {
//		log.Println("poll failed:", ev.Text())
//	})
package booster
