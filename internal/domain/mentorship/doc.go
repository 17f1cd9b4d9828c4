// Package mentorship содержит доменную модель менторских отношений:
// профили пользователей (UserNode), рёбра отношений студент → ментор (Edge)
// с их машиной состояний, расчёт совместимости (Scorer) и контракты хранилища.
//
// Машина состояний ребра:
//
//	(нет ребра) → pending → active   → completed | terminated
//	                      ↘ rejected
//
// rejected, completed и terminated — терминальные состояния конкретного ребра.
// После них та же пара может создать новое pending ребро; пока ребро pending
// или active, второе открытое ребро для пары невозможно.
//
// Счётчик CurrentMentees ментора отражает только принятые (active) отношения.
// Запрос (pending) не резервирует место: иначе поток неотвеченных запросов
// «съел» бы видимую ёмкость ментора. Единственный писатель статуса ребра и
// счётчика — менеджер жизненного цикла (application/command), который проводит
// каждое изменение через атомарный RelationshipStore.TransitionEdge.
package mentorship
