// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"franchise-license-workers/internal/common/validation"
	il "franchise-license-workers/internal/workers/settlement/issue-license"
	pa "franchise-license-workers/internal/workers/settlement/pay-application"
	ra "franchise-license-workers/internal/workers/settlement/review-application"
	"franchise-license-workers/pkg/registry"
)

// workerSchemas maps every settlement task type to the schema its handler validates with.
var workerSchemas = map[string]func() validation.JSONSchema{
	ra.TaskType: ra.GetInputSchema,
	pa.TaskType: pa.GetInputSchema,
	il.TaskType: il.GetInputSchema,
}

func main() {
	syncCmd := flag.NewFlagSet("sync", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)

	var registryPath string
	for _, fs := range []*flag.FlagSet{syncCmd, updateCmd, validateCmd} {
		fs.StringVar(&registryPath, "path", "configs/activity-registry.json", "Path to registry file")
	}

	taskType := updateCmd.String("taskType", "", "Task type of the activity to update")
	field := updateCmd.String("field", "", "Field to update (status, version, timeout, retries)")
	value := updateCmd.String("value", "", "New value for the field")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "sync":
		_ = syncCmd.Parse(os.Args[2:])
		err = syncSchemas(registryPath)
	case "update":
		_ = updateCmd.Parse(os.Args[2:])
		if *taskType == "" || *field == "" || *value == "" {
			fmt.Println("Error: taskType, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		err = updateActivity(registryPath, *taskType, *field, *value)
	case "validate":
		_ = validateCmd.Parse(os.Args[2:])
		err = validateRegistry(registryPath)
	default:
		help()
		return
	}

	if err != nil {
		fmt.Printf("%s failed: %v\n", os.Args[1], err)
		os.Exit(1)
	}
	fmt.Printf("%s: ok\n", os.Args[1])
}

// syncSchemas rewrites every activity's inputSchema from the handler's validation schema.
func syncSchemas(path string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return err
	}
	for taskType, schemaFn := range workerSchemas {
		activity, ok := reg.Find(taskType)
		if !ok {
			return fmt.Errorf("no activity for task type %s", taskType)
		}
		raw, err := json.Marshal(schemaFn())
		if err != nil {
			return err
		}
		var schema map[string]interface{}
		if err := json.Unmarshal(raw, &schema); err != nil {
			return err
		}
		activity.InputSchema = schema
	}
	return saveRegistry(reg, path)
}

func updateActivity(path, taskType, field, value string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return err
	}
	activity, ok := reg.Find(taskType)
	if !ok {
		return fmt.Errorf("no activity for task type %s", taskType)
	}

	switch field {
	case "status":
		activity.ImplementationStatus = value
	case "version":
		activity.Version = value
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		activity.Timeout = value
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		activity.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", field)
	}
	return saveRegistry(reg, path)
}

func validateRegistry(path string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return err
	}
	taskTypes := make([]string, 0, len(workerSchemas))
	for t := range workerSchemas {
		taskTypes = append(taskTypes, t)
	}
	if missing := reg.Missing(taskTypes...); len(missing) > 0 {
		return fmt.Errorf("task types without an activity: %v", missing)
	}
	for i := range reg.Activities {
		a := &reg.Activities[i]
		if _, err := a.TimeoutDuration(); err != nil {
			return err
		}
		if len(a.ErrorCodes) == 0 {
			return fmt.Errorf("activity %s: no error codes listed", a.ID)
		}
	}
	return nil
}

func saveRegistry(reg *registry.ActivityRegistry, path string) error {
	reg.LastUpdated = time.Now().Format("2006-01-02")
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func help() {
	fmt.Println("Usage: registry-updater <command> [flags]")
	fmt.Println("Commands:")
	fmt.Println("  sync      regenerate inputSchema from the settlement workers")
	fmt.Println("  update    -taskType <t> -field <status|version|timeout|retries> -value <v>")
	fmt.Println("  validate  check that every settlement worker has a well-formed activity")
}
