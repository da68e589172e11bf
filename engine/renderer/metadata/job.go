package metadata

import "github.com/google/uuid"

/** Definition for jobs. The results channel is buffered with one slot. */
type JobStart func(params interface{}, results chan<- interface{}) error

/** Definition for completion of a job. */
type JobOnComplete func(results <-chan interface{})

/** Definition for failure of a job. */
type JobOnFailure func(err error)

/** @brief Describes a type of job */
type JobType int

const (
	/**
	 * @brief A general job that does not have any specific thread requirements.
	 * This means it matters little which job thread this job runs on.
	 */
	JOB_TYPE_GENERAL JobType = 0x02
	/**
	 * @brief A resource loading job. Decoding textures and meshes off the
	 * render goroutine.
	 */
	JOB_TYPE_RESOURCE_LOAD JobType = 0x04
	/**
	 * @brief Encoding a frame that has already been copied out of mapped
	 * memory. Never touches the device.
	 */
	JOB_TYPE_FRAME_ENCODE JobType = 0x08
)

/**
 * @brief Describes a job to be run.
 */
type JobTask struct {
	/** @brief Unique id, carried in logs. */
	ID uuid.UUID
	/** @brief The type of job. */
	JobType JobType
	/** @brief Invoked when the job starts. Required. */
	OnStart JobStart
	/** @brief Invoked when the job successfully completes. Optional. */
	OnComplete JobOnComplete
	/** @brief Invoked when the job fails. Optional. */
	OnFailure JobOnFailure
	/** @brief Invoked after either outcome. Optional. */
	OnCompletionCallback func()
	/** @brief Data passed to the entry point upon execution. */
	InputParams interface{}
}

func NewJobTask(jobType JobType, params interface{}, onStart JobStart) JobTask {
	return JobTask{
		ID:          uuid.New(),
		JobType:     jobType,
		OnStart:     onStart,
		InputParams: params,
	}
}
