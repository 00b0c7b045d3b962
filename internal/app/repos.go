package app

import (
	"gorm.io/gorm"

	"github.com/slidesmith/slidesmith-backend/internal/logger"
	"github.com/slidesmith/slidesmith-backend/internal/repos"
)

type Repos struct {
	Deck         repos.DeckRepo
	Slide        repos.SlideRepo
	DeckEvent    repos.DeckEventRepo
	SlideVersion repos.SlideVersionRepo
	JobRun       repos.JobRunRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Deck:         repos.NewDeckRepo(db, log),
		Slide:        repos.NewSlideRepo(db, log),
		DeckEvent:    repos.NewDeckEventRepo(db, log),
		SlideVersion: repos.NewSlideVersionRepo(db, log),
		JobRun:       repos.NewJobRunRepo(db, log),
	}
}
