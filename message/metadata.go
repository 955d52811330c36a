package message

// Status tracks whether a message's producer has completed.
type Status string

const (
	// StatusBuilding marks a message whose turn builder is still running.
	StatusBuilding Status = "building"
	// StatusFinished marks a message whose content is final.
	StatusFinished Status = "finished"
)

// Stage locates a message within the lifecycle pipeline.
type Stage string

const (
	// StageProcessing holds in-flight messages and finished ones awaiting
	// the partition pass.
	StageProcessing Stage = "processing"
	// StageJustFinished holds finished messages awaiting the durable write.
	StageJustFinished Stage = "justFinished"
	// StageHistory holds durably recorded messages visible to future turns.
	StageHistory Stage = "history"
)

// WithMetadata wraps a Message with its lifecycle position.
type WithMetadata struct {
	Msg    Message
	Status Status
	Stage  Stage
}
