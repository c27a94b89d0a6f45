package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

func TopicSessionEvents(sessionID string) string {
	return fmt.Sprintf("events.session.%s", sessionID)
}

func TopicPipelineEvents(runID string) string {
	return fmt.Sprintf("events.pipeline.%s", runID)
}

const (
	TopicEventsAll       = "events.>"
	TopicEventsSession   = "events.session.*"
	TopicEventsPipeline  = "events.pipeline.*"
	TopicEventsTask      = "events.task.executed"
	TopicTasksIPC        = "tasks.ipc"
)
