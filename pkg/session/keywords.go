package session

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KeywordTable maps a moment type to the trigger terms that select it.
// The table is data, not code: it can be replaced wholesale or loaded from
// YAML to localize or tune classification without rebuilding.
type KeywordTable map[MomentType][]string

// classifyOrder fixes the evaluation order so multi-category matches come
// out deterministically, highest default importance first.
var classifyOrder = []MomentType{
	MomentBreakthrough,
	MomentErrorSolved,
	MomentDeployment,
	MomentFeatureCompleted,
	MomentImportantDecision,
	MomentConfigChanged,
	MomentRefactoring,
	MomentFileCreated,
}

// DefaultKeywordTable returns the built-in bilingual (English/Russian)
// trigger terms. Matching is a case-insensitive substring scan, so stems
// like "исправлен" also hit inflected forms ("исправлена").
func DefaultKeywordTable() KeywordTable {
	return KeywordTable{
		MomentBreakthrough: {
			"breakthrough", "discovered", "eureka", "finally works", "figured out",
			"прорыв", "открытие", "наконец заработал", "заработало", "разобрался",
		},
		MomentErrorSolved: {
			"error", "fix", "solved", "resolved", "bug", "issue", "problem",
			"ошибка", "исправлен", "решен", "решена", "исправлена", "починен", "починена",
			"баг", "проблема", "устранен", "устранена", "фикс", "исправление",
		},
		MomentDeployment: {
			"deploy", "deployed", "deployment", "released", "rolled out", "shipped",
			"деплой", "развернут", "развернута", "выкат", "релиз", "выложен",
		},
		MomentFeatureCompleted: {
			"completed", "finished", "done", "implemented", "ready", "success",
			"завершен", "завершена", "готов", "готова", "выполнен", "выполнена",
			"реализован", "реализована", "закончен", "закончена", "сделан", "сделана",
		},
		MomentImportantDecision: {
			"decided", "decision", "choice", "selected", "approach",
			"решил", "решила", "решение", "выбор", "подход", "стратегия",
			"принято решение", "выбран", "выбрана",
		},
		MomentConfigChanged: {
			"config", "settings", "configuration", "environment variable",
			"конфигурация", "настройки", "настройка", "конфиг", "параметры",
		},
		MomentRefactoring: {
			"refactor", "refactored", "restructure", "optimize", "optimized",
			"рефакторинг", "рефакторил", "рефакторила", "оптимизирован", "оптимизирована",
			"переработан", "переработана", "реструктуризация", "улучшен", "улучшена",
		},
		MomentFileCreated: {
			"create", "created", "write", "wrote", "add", "added",
			"создан", "создана", "создать", "написать", "добавить", "добавлен",
		},
	}
}

// LoadKeywordTable reads a keyword table from a YAML file mapping moment
// type to a list of trigger terms. Types absent from the file fall back
// to the defaults.
func LoadKeywordTable(path string) (KeywordTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keyword table: %w", err)
	}

	raw := make(map[string][]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse keyword table: %w", err)
	}

	table := DefaultKeywordTable()
	for typ, terms := range raw {
		if len(terms) == 0 {
			continue
		}
		table[MomentType(typ)] = terms
	}
	return table, nil
}
