package telegram

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// chatQueue выполняет задания одного чата строго по очереди, разные чаты, параллельно.
// Горутина чата живёт, пока есть задания.
type chatQueue struct {
	log logrus.FieldLogger

	mu      sync.Mutex
	pending map[int64][]func()
	running map[int64]bool
	wg      sync.WaitGroup
}

func newChatQueue(log logrus.FieldLogger) *chatQueue {
	return &chatQueue{
		log:     log,
		pending: map[int64][]func(){},
		running: map[int64]bool{},
	}
}

func (q *chatQueue) Do(chatID int64, job func()) {
	q.mu.Lock()
	q.pending[chatID] = append(q.pending[chatID], job)
	if q.running[chatID] {
		q.mu.Unlock()
		return
	}
	q.running[chatID] = true
	q.wg.Add(1)
	q.mu.Unlock()

	go q.drain(chatID)
}

func (q *chatQueue) drain(chatID int64) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		jobs := q.pending[chatID]
		if len(jobs) == 0 {
			delete(q.pending, chatID)
			delete(q.running, chatID)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		jobs[0] = nil
		q.pending[chatID] = jobs[1:]
		q.mu.Unlock()

		q.run(chatID, job)
	}
}

func (q *chatQueue) run(chatID int64, job func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.WithFields(logrus.Fields{"chat_id": chatID, "panic": r}).Error("chat job panic")
		}
	}()
	job()
}

// Wait ждёт, пока все очереди опустеют.
func (q *chatQueue) Wait() { q.wg.Wait() }
