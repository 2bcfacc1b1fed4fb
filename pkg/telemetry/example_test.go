package telemetry_test

import (
	"context"
	"fmt"

	"github.com/codemother/codemother/pkg/telemetry"
)

// ExampleEventSubject shows the NATS subject execution events go to.
func ExampleEventSubject() {
	fmt.Println(telemetry.EventSubject("42_1700000000000"))
	// Output: codemother.exec.42_1700000000000.events
}

// ExampleEventPublisher_Subscribe prints warnings and errors of one execution.
func ExampleEventPublisher_Subscribe() {
	ep, _ := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true, BufferSize: 10})
	ep.Subscribe(func(e telemetry.Event) {
		fmt.Println(e.Type, e.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelWarning))

	_ = ep.PublishNodeStarted("7_1", "build_check")
	_ = ep.PublishForcedPass("7_1", 3, []string{"Unexpected token"})
	_ = ep.Shutdown(context.Background())
	// Output: build.forced_pass Build passed without success after 3 fix attempts
}
