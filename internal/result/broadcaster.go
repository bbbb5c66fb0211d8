package result

import (
	"time"

	"github.com/sirupsen/logrus"
)

// event is the sum type pushed through the Broadcaster's bounded channel.
type event struct {
	kind       string
	suite      SuiteResult
	feature    FeatureResult
	scenario   ScenarioResult
	step       StepResult
	scenarioID string
	path       string
	start      time.Time
}

// Broadcaster fans events out to N listeners through one bounded queue,
// so a slow listener applies back-pressure to the scheduler rather than
// dropping events (spec §5 "suspension points ... blocking on the
// bounded ResultListener queue"). HookError-class panics/errors from a
// listener are caught and logged, never propagated (spec §7).
type Broadcaster struct {
	listeners []Listener
	queue     chan event
	done      chan struct{}
	log       *logrus.Logger
}

func NewBroadcaster(queueSize int, log *logrus.Logger, listeners ...Listener) *Broadcaster {
	if log == nil {
		log = logrus.New()
	}
	b := &Broadcaster{
		listeners: listeners,
		queue:     make(chan event, queueSize),
		done:      make(chan struct{}),
		log:       log,
	}
	go b.run()
	return b
}

func (b *Broadcaster) run() {
	for ev := range b.queue {
		b.dispatch(ev)
	}
	close(b.done)
}

func (b *Broadcaster) dispatch(ev event) {
	for _, l := range b.listeners {
		b.safeCall(l, ev)
	}
}

// safeCall isolates one listener's panic so it cannot take down the
// broadcaster goroutine or any peer listener (spec §7 HookError policy).
func (b *Broadcaster) safeCall(l Listener, ev event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.WithField("event", ev.kind).Errorf("result listener panicked: %v", r)
		}
	}()
	switch ev.kind {
	case "suiteStart":
		l.OnSuiteStart(ev.start)
	case "featureStart":
		l.OnFeatureStart(ev.path)
	case "scenarioStart":
		l.OnScenarioStart(ev.scenario)
	case "stepEnd":
		l.OnStepEnd(ev.scenarioID, ev.step)
	case "scenarioEnd":
		l.OnScenarioEnd(ev.scenario)
	case "featureEnd":
		l.OnFeatureEnd(ev.feature)
	case "suiteEnd":
		l.OnSuiteEnd(ev.suite)
	}
}

func (b *Broadcaster) OnSuiteStart(start time.Time)  { b.queue <- event{kind: "suiteStart", start: start} }
func (b *Broadcaster) OnFeatureStart(path string)    { b.queue <- event{kind: "featureStart", path: path} }
func (b *Broadcaster) OnScenarioStart(sc ScenarioResult) {
	b.queue <- event{kind: "scenarioStart", scenario: sc}
}
func (b *Broadcaster) OnStepEnd(scenarioID string, step StepResult) {
	b.queue <- event{kind: "stepEnd", scenarioID: scenarioID, step: step}
}
func (b *Broadcaster) OnScenarioEnd(sc ScenarioResult) {
	b.queue <- event{kind: "scenarioEnd", scenario: sc}
}
func (b *Broadcaster) OnFeatureEnd(f FeatureResult) { b.queue <- event{kind: "featureEnd", feature: f} }
func (b *Broadcaster) OnSuiteEnd(s SuiteResult)     { b.queue <- event{kind: "suiteEnd", suite: s} }

// Close drains the queue and waits for the dispatch goroutine to exit.
// Callers must stop pushing events before calling Close.
func (b *Broadcaster) Close() {
	close(b.queue)
	<-b.done
}

var _ Listener = (*Broadcaster)(nil)
