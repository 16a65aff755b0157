package exchange

import jsoniter "github.com/json-iterator/go"

// json - совместимый со стандартной библиотекой кодек json-iterator для ответов REST API бирж
var json = jsoniter.ConfigCompatibleWithStandardLibrary
