package domain

import (
	"time"
)

// ExecutionProgress tracks how far a workflow has advanced.
// Invariant: 0 <= CompletedSteps <= CurrentStepIndex <= TotalSteps.
type ExecutionProgress struct {
	TotalSteps             int           `json:"totalSteps"`
	CompletedSteps         int           `json:"completedSteps"`
	CurrentStepIndex       int           `json:"currentStepIndex"`
	CurrentStepName        string        `json:"currentStepName"`
	OverallProgress        int           `json:"overallProgress"`
	AverageStepDuration    time.Duration `json:"averageStepDuration"`
	EstimatedTimeRemaining time.Duration `json:"estimatedTimeRemaining"`
	LastActivity           time.Time     `json:"lastActivity"`
}

// RecordStepCompleted folds a finished step into the progress record and
// refreshes the derived estimates.
func (p *ExecutionProgress) RecordStepCompleted(duration time.Duration) {
	p.CompletedSteps++
	total := time.Duration(p.CompletedSteps-1)*p.AverageStepDuration + duration
	p.AverageStepDuration = total / time.Duration(p.CompletedSteps)
	remaining := p.TotalSteps - p.CompletedSteps
	p.EstimatedTimeRemaining = time.Duration(remaining) * p.AverageStepDuration
	if p.TotalSteps > 0 {
		p.OverallProgress = p.CompletedSteps * 100 / p.TotalSteps
	}
	p.LastActivity = time.Now().UTC()
}

// StepExecutionSummary is one entry of a session's step history.
type StepExecutionSummary struct {
	StepIndex   int           `json:"stepIndex"`
	StepContent string        `json:"stepContent"`
	Status      string        `json:"status"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt,omitempty"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
}

// Step summary statuses.
const (
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
	StepStatusCancelled = "cancelled"
)
