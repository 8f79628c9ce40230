/*
Package repeater runs a callback repeatedly on a timed cadence.

A [Repeater] owns one callback and one schedule. It waits for an initial delay,
runs the callback, and once the run has finished it waits for the interval
before running again. Runs never overlap: the next timer is only armed after
the previous run has returned.

	r, err := repeater.New(func(t *repeater.Tick) error {
		return poll(t.Context())
	}, repeater.Options{Interval: 30 * time.Second, Delay: 5 * time.Second})

The numeric shorthand [Every] sets only the interval, with no initial delay.

# Aborting

[Repeater.Abort] stops all future runs. The abort event fires synchronously
inside the call; the aborted event fires, and the returned channel closes, once
any run in progress has finished. A callback can end its own repeater with
[Tick.Abort], which completes the current run immediately instead of waiting
for the callback to return. Calls are idempotent and share one channel.

# Events

Listeners registered with [Repeater.On] or [Repeater.Once] run synchronously
on the goroutine that emits them:

  - [EventRun]: a run is starting; Event.Tick is set
  - [EventError]: the callback failed; Event.Err is a *[CallbackError]
  - [EventAbort]: abort was requested
  - [EventAborted]: abort finished, the repeater is terminal

A [Collection] tracks a set of live repeaters, drops each one as it finishes
aborting, and aborts them all together.
*/
package repeater
