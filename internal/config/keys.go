package config

// Etcd server hostname
const ETCD_ADDRESS = "etcd.address"

// Port for the public API server
const API_PORT = "api.port"

// Port for the runtime protocol server polled by containers
const RUNTIME_API_PORT = "runtime.api.port"

// Host address advertised to containers for the runtime protocol server
const RUNTIME_API_HOST = "runtime.api.host"

// Port for the Prometheus metrics endpoint
const METRICS_PORT = "metrics.port"

// Enables Prometheus metrics (true/false)
const METRICS_ENABLED = "metrics.enabled"

// Logging level (debug, info, warn, error)
const LOG_LEVEL = "log.level"

// Container manager to use ("docker" or "podman")
const CONTAINER_MANAGER = "container.manager"

// Socket used to reach the Podman service
const PODMAN_SOCKET = "container.podman.socket"

// Forces runtime container images to be pulled the first time they are used,
// even if they are locally available (true/false).
const FACTORY_REFRESH_IMAGES = "factory.images.refresh"

// Amount of memory available for the containers pool (in MB)
const POOL_MEMORY_MB = "containers.pool.memory"

// CPUs available for the containers pool (1.0 = 1 core)
const POOL_CPUS = "containers.pool.cpus"

// Process-wide ceiling on concurrently executing invocations
const GLOBAL_CONCURRENCY = "concurrency.global"

// Maximum number of queued invocations per function when the reserved
// ceiling is saturated (0 disables queueing)
const QUEUE_CAPACITY = "scheduler.queue.capacity"

// Idle time after which a warm container is stopped (ms)
const IDLE_SOFT_MS = "container.idle.soft-ms"

// Total idle time after which a stopped container is removed (ms)
const IDLE_HARD_MS = "container.idle.hard-ms"

// Interval between idle watchdog sweeps (seconds)
const WATCHDOG_INTERVAL = "watchdog.interval"

// Timeout for the readiness handshake of a newly created container (ms)
const HANDSHAKE_TIMEOUT_MS = "container.handshake.timeout-ms"

// Default function timeout when not set on the function (seconds)
const DEFAULT_FUNCTION_TIMEOUT = "function.default.timeout"

// Granularity used to round up billed duration (ms)
const BILLING_GRANULARITY_MS = "billing.granularity-ms"

// How long a long-poll for the next invocation is held open (ms)
const LONGPOLL_TIMEOUT_MS = "runtime.longpoll.timeout-ms"

// Lease TTL for async invocation results stored in etcd (seconds)
const ASYNC_RESULT_TTL = "async.result.ttl"

// Lease TTL for execution audit records stored in etcd (seconds)
const AUDIT_TTL = "audit.ttl"

// Local metadata cache: capacity, cleanup interval and item TTL (seconds)
const CACHE_SIZE = "cache.size"
const CACHE_CLEANUP = "cache.cleanup"
const CACHE_ITEM_EXPIRATION = "cache.expiration"
