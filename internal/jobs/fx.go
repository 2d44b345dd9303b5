package jobs

import "go.uber.org/fx"

func asJob(ctor any) any {
	return fx.Annotate(ctor, fx.As(new(Job)), fx.ResultTags(`group:"jobs"`))
}

var Module = fx.Module("jobs",
	fx.Provide(
		asJob(NewDiscoverExtensions),
		asJob(NewCollectRepos),
		asJob(NewAppendSeries),
		asJob(NewPatchExtensions),
		asJob(NewDiscoverSites),
		asJob(NewCollectSites),
		asJob(NewMergeCSV),
		asJob(NewPatchSites),
		asJob(NewDeleteResource),
	),
	fx.Provide(NewRegistry),
	fx.Provide(NewRunner),
)
