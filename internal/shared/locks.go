package shared

// ProjectionVerifyLock names the lock held while the ledger replay check runs.
const ProjectionVerifyLock = "ledger:projection:verify"
