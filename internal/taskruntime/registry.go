// Package taskruntime implements the C5 task runtime (§4.5): the thread
// and broker backends sharing a tag -> handler dispatch table, plus the
// stuck-task sweeper that fails RUNNING tasks older than one configured
// maximum age (per-task max_runtime_seconds is enforced by the broker
// backend's own handler deadline, not by the sweeper).
package taskruntime

import "github.com/fairyhunter13/bookcard-runtime/internal/domain"

// HandlerRegistry implements domain.TaskHandlerFactory as a plain map,
// grounded on the teacher's "dynamic dispatch over task types" guidance
// (§9): a tag -> constructor table rather than a type switch or a global
// service locator.
type HandlerRegistry struct {
	handlers map[domain.TaskType]domain.TaskHandler
}

// NewHandlerRegistry returns an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[domain.TaskType]domain.TaskHandler)}
}

// Register associates taskType with handler, overwriting any previous
// registration (used by callers that want a specialized library_scan
// handler per backend; see NewInProcessLibraryScanHandler /
// NewDistributedLibraryScanHandler).
func (r *HandlerRegistry) Register(taskType domain.TaskType, handler domain.TaskHandler) {
	r.handlers[taskType] = handler
}

// Handler implements domain.TaskHandlerFactory.
func (r *HandlerRegistry) Handler(taskType domain.TaskType) (domain.TaskHandler, bool) {
	h, ok := r.handlers[taskType]
	return h, ok
}

// allTaskTypes enumerates every task type named in §6, used by
// RegisterStubHandlers to fill in every type not given a real handler.
var allTaskTypes = []domain.TaskType{
	domain.TaskTypeBookUpload,
	domain.TaskTypeMultiBookUpload,
	domain.TaskTypeBookConvert,
	domain.TaskTypeBookStripDRM,
	domain.TaskTypeEmailSend,
	domain.TaskTypeMetadataBackup,
	domain.TaskTypeThumbnailGenerate,
	domain.TaskTypeLibraryScan,
	domain.TaskTypeAuthorMetadataFetch,
	domain.TaskTypeOpenLibraryDumpDownload,
	domain.TaskTypeOpenLibraryDumpIngest,
	domain.TaskTypeEpubFixSingle,
	domain.TaskTypeEpubFixBatch,
	domain.TaskTypeEpubFixDailyScan,
	domain.TaskTypeIngestDiscovery,
	domain.TaskTypeIngestBook,
	domain.TaskTypePVRDownloadMonitor,
	domain.TaskTypeProwlarrSync,
	domain.TaskTypeIndexerHealthCheck,
}

// RegisterStubHandlers fills every task type in allTaskTypes that isn't
// already registered with a StubHandler. Task types other than
// library_scan delegate to external collaborators out of this runtime's
// scope (§1 Non-goals: rendering, conversion, credential issuance, mail,
// third-party indexers/PVR integrations) — the runtime still owns their
// lifecycle bookkeeping (PENDING -> RUNNING -> terminal, progress), it
// just has nothing further to compute once dispatched.
func (r *HandlerRegistry) RegisterStubHandlers() {
	for _, t := range allTaskTypes {
		if _, ok := r.handlers[t]; !ok {
			r.handlers[t] = StubHandler(t)
		}
	}
}
