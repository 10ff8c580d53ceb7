// Package events 定义了发布到 Kafka 的事件结构。
package events

import "time"

// 事件类型。
const (
	TypeIndexCompleted = "index.completed"
	TypeQARecorded     = "qa.recorded"
)

// Event 是发布到消息队列的统一信封。
type Event struct {
	Type      string    `json:"type"`
	Workspace string    `json:"workspace"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// IndexCompleted 在一次 process 成功后发布。
type IndexCompleted struct {
	URL        string `json:"url"`
	Files      int    `json:"files"`
	Chunks     int    `json:"chunks"`
	DurationMS int64  `json:"duration_ms"`
}

// QARecorded 在问答写入日志后发布。
type QARecorded struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Publisher 发布事件。实现需要自行处理序列化与投递。
type Publisher interface {
	Publish(event Event) error
	Close() error
}

// New 创建一个带当前时间戳的事件。
func New(eventType, workspace string, payload any) Event {
	return Event{Type: eventType, Workspace: workspace, Timestamp: time.Now(), Payload: payload}
}

type nopPublisher struct{}

// Nop 返回丢弃所有事件的 Publisher，用于未启用 Kafka 时。
func Nop() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(Event) error { return nil }
func (nopPublisher) Close() error        { return nil }

// Recorder 在内存中记录事件，供测试断言使用。
type Recorder struct {
	Events []Event
}

func (r *Recorder) Publish(e Event) error {
	r.Events = append(r.Events, e)
	return nil
}

func (r *Recorder) Close() error { return nil }

// Types 返回已记录事件的类型序列。
func (r *Recorder) Types() []string {
	out := make([]string, 0, len(r.Events))
	for _, e := range r.Events {
		out = append(out, e.Type)
	}
	return out
}
