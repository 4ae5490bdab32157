/*
package server provides Scheduler, which runs owner-tagged tasks on a pool of workers.

* Concepts *
Priority level:
  Each level of the QueueingModel has its own keyed queue and a weight. Priorities
  the model does not name are served by the closest level.

Weight window:
  The weights make a repeating window of TotalWeight turns. A busy level gets
  Weight turns per window, interleaved by smooth weighted round robin.

Owner pin:
  While an owner has ready tasks queued, its new ready tasks join them at the same
  level, whatever their own priority. An owner's tasks leave in the order they
  became ready.

Delayed task:
  A task with a StartTime in the future waits in the delay queue and moves to its
  level's queue once that time passes. Recurring firings and backed-off retries
  are delayed tasks.

Reservation:
  Capacity held for tasks that have not been submitted yet. Reserved tasks count
  toward MaxQueueDepth until the reservation is used or cancelled.

* Logic *
Next Task:
  Promote every delayed task whose time has come.
  Take the level whose turn it is; when it is empty try the more urgent levels,
  then the less urgent ones.
  Advance the turn counter only when a task was taken.

Task Outcome:
  Success reports the accessed objects to the AccessReporter.
  A failure is classified by the retry Policy: retry now, retry after a backoff,
  or drop and call the FailureHandler.
  Panics and timeouts are failures like any other.
*/
package server
