package core

// Task runs once per control-loop iteration with the loop's timestamp.
// Tasks must return promptly: the transport shares the same loop.
type Task func(now Instant)

// TaskList is the ordered set of tasks the control loop runs after
// processing incoming commands.
type TaskList struct {
	tasks []Task
}

// Add appends a task. Tasks run in registration order.
func (l *TaskList) Add(t Task) {
	l.tasks = append(l.tasks, t)
}

// Run calls every task with now.
func (l *TaskList) Run(now Instant) {
	for _, t := range l.tasks {
		t(now)
	}
}

// Len returns the number of registered tasks.
func (l *TaskList) Len() int {
	return len(l.tasks)
}
