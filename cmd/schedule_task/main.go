package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"cirsqu_api/internal/clock"
	"cirsqu_api/internal/config"
	"cirsqu_api/internal/logging"
	"cirsqu_api/internal/models"
	"cirsqu_api/internal/services"
	"cirsqu_api/internal/tasks"
)

var build = "develop"

func main() {
	// defined flags
	taskName := flag.String("task_name", "", "Name of the task (mandatory)")
	argsStr := flag.String("arguments", "{}", "JSON arguments for the task")
	dueStr := flag.String("due", "", "Due date (mandatory, format: 2006-01-02 15:04 or RFC3339)")
	taskType := flag.String("tasktype", "onetime", "Task type (onetime or recurring)")
	recurring := flag.String("recurring", "", "RRULE recurrence, required for recurring tasks (e.g. FREQ=MINUTELY;INTERVAL=15)")
	maxAttempt := flag.Int("max_attempt", 3, "Max attempts per run")

	flag.Parse()

	// Validation
	if *taskName == "" || *dueStr == "" {
		fmt.Println("Usage: schedule_task -task_name <name> -due <YYYY-MM-DD HH:MM> [-arguments <json_args>] [options]")
		flag.PrintDefaults()
		os.Exit(1)
	}

	// arguments after "--" belong to the config parser
	os.Args = append(os.Args[:1], flag.Args()...)
	cfg, err := config.Load(build)
	if errors.Is(err, config.ErrHelpWanted) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.JSON)

	// Parse arguments JSON
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(*argsStr), &args); err != nil {
		log.Fatalf("Invalid JSON arguments: %v", err)
	}

	// Parse due date, RFC3339 first, then the short form in local time
	due, err := time.Parse(time.RFC3339, *dueStr)
	if err != nil {
		due, err = time.ParseInLocation("2006-01-02 15:04", *dueStr, time.Local)
		if err != nil {
			log.Fatalf("Invalid due date format. Use '2006-01-02 15:04' (Local) or RFC3339: %v", err)
		}
	}

	// Recurring ptr
	var recurringPtr *string
	if *recurring != "" {
		recurringPtr = recurring
	}

	task, err := tasks.BuildScheduledTask(*taskName, args, due.UTC(), recurringPtr, models.ScheduledTaskType(*taskType), *maxAttempt)
	if err != nil {
		log.Fatalf("Invalid task: %v", err)
	}

	// Reject names the worker cannot run
	registry := tasks.NewRegistry()
	tasks.DefineTasks(registry, tasks.Deps{Clock: clock.NewSystem(), Log: log})
	if _, ok := registry.Get(task.TaskName); !ok {
		log.Fatalf("Unknown task %q, known tasks: %v", task.TaskName, registry.Names())
	}

	// Init DB
	db, err := services.InitDB(cfg.DB, log)
	if err != nil {
		log.Fatalf("Failed to connect DB: %v", err)
	}

	if err := tasks.NewTaskStore(db).Create(context.Background(), task); err != nil {
		log.Fatalf("Failed to create task: %v", err)
	}

	fmt.Printf("Successfully created task ID: %d\n", task.ID)
	fmt.Printf("Task: %s\nDue: %s\nType: %s\n", task.TaskName, task.Due, task.TaskType)
}
