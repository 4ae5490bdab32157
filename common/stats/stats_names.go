package stats

/*
All metric names used by sgs. Add new names here, grouped by component, with a
short description of what is measured.
*/

const (
	/****************************** Task scheduler ******************************/
	/*
		tasks accepted by Submit, SubmitDelayed or a used reservation
	*/
	SchedTasksSubmittedCounter = "tasksSubmittedCounter"

	/*
		submissions rejected at admission (nil task, unsupported priority, shutdown, full queue)
	*/
	SchedTasksRejectedCounter = "tasksRejectedCounter"

	/*
		tasks handed to a worker or returned by a bulk dequeue
	*/
	SchedTasksDequeuedCounter = "tasksDequeuedCounter"

	/*
		cancelled tasks found in a queue and skipped
	*/
	SchedTasksSkippedCounter = "tasksSkippedCounter"

	/*
		task runs that completed without failure
	*/
	SchedTasksSucceededCounter = "tasksSucceededCounter"

	/*
		task runs re-enqueued immediately by the retry policy
	*/
	SchedTasksRetriedNowCounter = "tasksRetriedNowCounter"

	/*
		task runs re-enqueued with a backoff delay by the retry policy
	*/
	SchedTasksRetriedLaterCounter = "tasksRetriedLaterCounter"

	/*
		task runs dropped as fatal by the retry policy
	*/
	SchedTasksFailedCounter = "tasksFailedCounter"

	/*
		task bodies that panicked (each is also counted as failed or retried)
	*/
	SchedTaskPanicsCounter = "taskPanicsCounter"

	/*
		ready plus delayed tasks waiting in the scheduler
	*/
	SchedQueueDepthGauge = "queueDepthGauge"

	/*
		outstanding reservations that have been neither used nor cancelled
	*/
	SchedReservationsGauge = "reservationsGauge"

	/*
		time from a task's start time to the moment it was dequeued
	*/
	SchedQueueLatency_ms = "queueLatency_ms"

	/*
		time spent running a task body
	*/
	SchedTaskRunLatency_ms = "taskRunLatency_ms"

	/*
		recurring task handles started and cancelled
	*/
	SchedRecurringStartedCounter   = "recurringStartedCounter"
	SchedRecurringCancelledCounter = "recurringCancelledCounter"

	/****************************** Affinity graph ******************************/
	/*
		edges and vertices currently in the affinity graph
	*/
	GraphEdgeCountGauge   = "edgeCountGauge"
	GraphVertexCountGauge = "vertexCountGauge"

	/*
		UpdateGraph calls that changed the graph
	*/
	GraphUpdateCounter = "updateCounter"

	/*
		snapshot rotations that expired a window
	*/
	GraphPruneCounter = "pruneCounter"

	/*
		edges removed because their only contributions expired
	*/
	GraphEdgesPrunedCounter = "edgesPrunedCounter"

	/*
		time spent inside UpdateGraph
	*/
	GraphUpdateLatency_ms = "updateLatency_ms"

	/*
		time spent expiring a snapshot
	*/
	GraphPruneLatency_ms = "pruneLatency_ms"

	/****************************** Group coordinator ******************************/
	/*
		number of groups in the current group set
	*/
	CoordGroupCountGauge = "groupCountGauge"

	/*
		groups still waiting for their stragglers to be moved
	*/
	CoordPendingGroupsGauge = "pendingGroupsGauge"

	/*
		group discovery runs and their duration
	*/
	CoordFindGroupsCounter    = "findGroupsCounter"
	CoordFindGroupsLatency_ms = "findGroupsLatency_ms"

	/*
		MoveIdentities calls issued, identities moved, and calls that failed
	*/
	CoordMigrationCounter       = "migrationCounter"
	CoordIdentitiesMovedCounter = "identitiesMovedCounter"
	CoordMigrationErrCounter    = "migrationErrCounter"

	/*
		groups retargeted away from an offloading or failed node
	*/
	CoordGroupsOffloadedCounter = "groupsOffloadedCounter"

	/*
		offload requests that found no alternate node
	*/
	CoordNoNodesAvailableCounter = "noNodesAvailableCounter"

	/****************************** Node map ******************************/
	/*
		http node map client requests and failures
	*/
	NodeMapClientRequestCounter = "clientRequestCounter"
	NodeMapClientErrCounter     = "clientErrCounter"

	/****************************** Cluster ******************************/
	/*
		nodes returned by the last successful membership fetch
	*/
	ClusterNodesGauge = "clusterNodesGauge"

	/*
		membership fetches that failed
	*/
	ClusterFetchErrCounter = "clusterFetchErrCounter"

	/****************************** Server ******************************/
	/*
		time since the server started, in ms
	*/
	ServerUptime_ms = "uptime_ms"
)
