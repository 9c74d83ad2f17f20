// Package testutil holds fixtures and deterministic helpers shared by the
// marksync test suites.
//
// It must not import the packages it helps test: model and view tests
// pass ManualExecutor.Run where a model.Executor is expected.
package testutil
