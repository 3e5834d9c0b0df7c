// Package api exposes the REST surface for submitting agent tasks,
// inspecting their progress, and listing the tools the runtime has
// discovered. It also serves health and metrics endpoints for
// operational monitoring.
package api
