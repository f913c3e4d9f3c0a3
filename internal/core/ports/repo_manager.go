package ports

import "github.com/hero-dungeon/dungeond/internal/core/domain"

type RepoManager interface {
	Attempts() domain.AttemptRepository
	Close()
}
