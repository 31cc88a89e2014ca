package docker

// ContainerConfig declares a docker:container resource. Name defaults to
// the derived physical name when empty.
type ContainerConfig struct {
	Image       string             `json:"image" validate:"required"`
	Name        string             `json:"name"`
	Command     []string           `json:"command"`
	Ports       map[string]int     `json:"ports"`
	Env         map[string]string  `json:"env"`
	Networks    []string           `json:"networks"`
	Volumes     []string           `json:"volumes"`
	Labels      map[string]string  `json:"labels"`
	WorkingDir  string             `json:"workingDir"`
	User        string             `json:"user"`
	Restart     string             `json:"restart" validate:"omitempty,oneof=no always on-failure unless-stopped"`
	Healthcheck *HealthcheckConfig `json:"healthcheck"`
	Logging     *LoggingConfig     `json:"logging"`
}

type HealthcheckConfig struct {
	Test        []string `json:"test"`
	Interval    string   `json:"interval"`
	Timeout     string   `json:"timeout"`
	StartPeriod string   `json:"startPeriod"`
	Retries     int      `json:"retries"`
}

type LoggingConfig struct {
	Driver  string            `json:"driver" validate:"required"`
	Options map[string]string `json:"options"`
}

type ContainerState struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// ImageConfig declares a docker:image resource: either a pull by reference
// or a build from a local context.
type ImageConfig struct {
	Name         string `json:"name" validate:"required"`
	BuildContext string `json:"buildContext"`
	Dockerfile   string `json:"dockerfile"`
}

type ImageState struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type NetworkConfig struct {
	Name     string            `json:"name"`
	Driver   string            `json:"driver"`
	Internal bool              `json:"internal"`
	Labels   map[string]string `json:"labels"`
}

type NetworkState struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type VolumeConfig struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}

type VolumeState struct {
	Name   string `json:"name"`
	Driver string `json:"driver"`
}
