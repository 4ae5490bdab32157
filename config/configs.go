package config

// ServiceConfigs the map of built-in configurations. GetConfig also accepts
// a file name.
var ServiceConfigs = map[string]ServerConfig{
	"default":      defaultConfig,
	"local.memory": localMemory,
	"local.http":   localHttp,
}

// defaultConfig fills nothing in: every component runs with its own defaults.
var defaultConfig = ServerConfig{}

// localMemory config for local.memory - !!! make sure this constant is added to ServiceConfigs map above !!!
var localMemory = ServerConfig{
	Scheduler: SchedulerConfig{
		NumWorkers:  8,
		TaskTimeout: "100ms",
	},
	Graph: GraphConfig{
		PrunePeriod: "1m",
		PruneCount:  2,
	},
	Coordinator: CoordinatorConfig{
		FindPeriod:     "30s",
		FindTimeout:    "10s",
		MigrationRate:  10,
		MigrationBurst: 5,
	},
	NodeMap: NodeMapConfig{
		Type:  NodeMapMemory,
		Count: 10,
		Serve: true,
	},
}

// localHttp config for local.http: the node map is served by another local
// sgsserver - !!! make sure this constant is added to ServiceConfigs map above !!!
var localHttp = ServerConfig{
	Scheduler: SchedulerConfig{
		NumWorkers:  8,
		TaskTimeout: "100ms",
	},
	NodeMap: NodeMapConfig{
		Type:        NodeMapHttp,
		URI:         "http://localhost:9091/nodemap",
		FetchPeriod: "5s",
	},
	Admin: AdminConfig{
		Addr: "localhost:9092",
	},
}
