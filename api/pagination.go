// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"errors"
	"net/http"
	"strconv"
)

var ErrInvalidPaginationParameters = errors.New("invalid pagination parameters")

// parsePage reads the zero-based page query parameter
func parsePage(r *http.Request) (int, error) {
	pageParam := r.URL.Query().Get("page")
	if pageParam == "" {
		return 0, nil
	}
	page, err := strconv.Atoi(pageParam)
	if err != nil || page < 0 {
		return 0, ErrInvalidPaginationParameters
	}
	return page, nil
}

func parseUint(param string, bits int) (uint64, error) {
	v, err := strconv.ParseUint(param, 10, bits)
	if err != nil {
		return 0, ErrInvalidPaginationParameters
	}
	return v, nil
}
