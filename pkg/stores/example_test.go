package stores_test

import (
	"context"
	"fmt"
	"log"

	"github.com/codemother/codemother/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a new SQLite store.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path: ":memory:",
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_FinishExecution records a run that needed a forced pass.
func ExampleSQLiteStore_FinishExecution() {
	ctx := context.Background()
	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	_ = store.CreateExecution(ctx, &stores.Execution{
		ID:             "42_1700000000000",
		AppID:          42,
		Prompt:         "build a todo app",
		GenerationType: "VUE_PROJECT",
	})
	_ = store.FinishExecution(ctx, "42_1700000000000", stores.ExecutionOutcome{
		Status:        stores.ExecutionStatusSucceeded,
		ForcedPass:    true,
		FixRetryCount: 3,
	})

	exec, _ := store.GetExecution(ctx, "42_1700000000000")
	fmt.Println(exec.Status, exec.ForcedPass, exec.FixRetryCount)
	// Output: succeeded true 3
}

// ExampleSQLiteStore_LoadRecent shows that recent history is returned oldest first.
func ExampleSQLiteStore_LoadRecent() {
	ctx := context.Background()
	store, err := stores.Open(ctx, ":memory:")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	_ = store.Append(ctx, 1, stores.RoleUser, "make a landing page")
	_ = store.Append(ctx, 1, stores.RoleAI, "done")
	_ = store.Append(ctx, 1, stores.RoleUser, "make the header blue")

	msgs, _ := store.LoadRecent(ctx, 1, 2)
	for _, m := range msgs {
		fmt.Printf("%s: %s\n", m.Role, m.Message)
	}
	// Output:
	// ai: done
	// user: make the header blue
}
