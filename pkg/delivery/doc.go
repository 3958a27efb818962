/*
Package delivery implements DeliveryEngine, the component responsible for
driving every queued message through the forward-only state machine:

	queued -> injected -> verified -> active
	                   \-> failed{reason}

Each worker gets its own strict FIFO queue so one slow or stuck worker
never blocks delivery to another. A delivery advances only on the shared
reconciliation tick: inject when the throttle allows it, check the
verification window for echo containment, then check the activity window
for a sign the agent actually acted on it. A verification timeout retries
up to a configured attempt limit before failing; a no-activity timeout is
treated as an implicit success by default, since plenty of legitimate
replies produce no activity marker the profile recognizes.

Priority only affects queue position: a priority>0 delivery is inserted
at the front of its worker's queue, but it still waits for whatever is
already in flight at the head. Nothing here preempts an injection that
has already happened.
*/
package delivery
