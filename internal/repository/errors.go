package repository

import "errors"

var (
	// ErrNotFound — строка отсутствует (или точечное чтение после insert-события
	// проиграло гонку с удалением).
	ErrNotFound = errors.New("not found")

	// ErrAuthorizationDenied — операция отклонена политикой хранилища: чужое
	// сообщение, системное, уже удалённое или истекло окно редактирования.
	// Хранилище — конечный авторитет; клиентские проверки лишь дублируют его.
	ErrAuthorizationDenied = errors.New("authorization denied")
)
