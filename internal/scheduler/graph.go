package scheduler

import (
	"fmt"

	"github.com/harrison/overseer/internal/models"
)

// ValidateGraph rejects task sets with unknown dependencies or cycles.
func ValidateGraph(tasks []*models.Task) error {
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	flat := make([]models.Task, 0, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if !known[dep] {
				return fmt.Errorf("task %s depends on unknown task %s", t.ID, dep)
			}
		}
		flat = append(flat, *t)
	}
	if models.HasCyclicDependencies(flat) {
		return fmt.Errorf("task graph contains a dependency cycle")
	}
	return nil
}
