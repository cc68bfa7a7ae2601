package ir

// TraceVersion is written into every trace snapshot so golden files record
// which trace layout produced them.
const TraceVersion = "1"
